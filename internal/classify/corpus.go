package classify

import "github.com/imnothoan/verygoodmail/internal/models"

type sample struct {
	label string
	text  string
}

// categorySamples is the built-in bilingual training set for the local model.
var categorySamples = []sample{
	{string(models.CategorySpam), "Chúc mừng bạn đã trúng thưởng một chiếc iPhone, click ngay để nhận quà miễn phí"},
	{string(models.CategorySpam), "Kiếm tiền online tại nhà, thu nhập 50 triệu mỗi tháng, nhấn vào đây"},
	{string(models.CategorySpam), "Thuốc giảm cân thần tốc, ưu đãi sốc chỉ hôm nay, số lượng giới hạn"},
	{string(models.CategorySpam), "Khuyến mãi đặc biệt miễn phí 100%, trúng thưởng ngay, nhấn vào đây"},
	{string(models.CategorySpam), "Congratulations winner! You have been selected to receive a lottery prize"},
	{string(models.CategorySpam), "Free money waiting for you, click here to claim your prize now"},
	{string(models.CategorySpam), "Limited time offer, act now! Urgent: claim your cash prize, winner selected"},
	{string(models.CategorySpam), "You won the lottery! Send your bank details to receive free money"},
	{string(models.CategorySpam), "Make money fast from home, no experience needed, click here, act now"},

	{string(models.CategoryImportant), "Khẩn cấp: cần xử lý hợp đồng trước thứ sáu, rất quan trọng"},
	{string(models.CategoryImportant), "Quan trọng: hạn chót nộp báo cáo tài chính là ngày mai"},
	{string(models.CategoryImportant), "Yêu cầu phê duyệt khẩn cấp cho ngân sách dự án quý này"},
	{string(models.CategoryImportant), "Important: action required on your account security before the deadline"},
	{string(models.CategoryImportant), "Action required: please review and sign the contract by Friday"},
	{string(models.CategoryImportant), "Important deadline tomorrow for the quarterly report, approval needed"},
	{string(models.CategoryImportant), "Your password will expire soon, action required to keep access"},

	{string(models.CategorySocial), "Bạn bè của bạn vừa bình luận về ảnh của bạn"},
	{string(models.CategorySocial), "Có người mới theo dõi bạn, hãy xem trang cá nhân của họ"},
	{string(models.CategorySocial), "Lời mời kết bạn mới từ Minh, bạn bè chung 12 người"},
	{string(models.CategorySocial), "Your friend commented on your post and liked your photo"},
	{string(models.CategorySocial), "You have a new follower, see who started to follow you"},
	{string(models.CategorySocial), "New friend request, people you may know on the network"},
	{string(models.CategorySocial), "Someone mentioned you in a comment, reply to join the conversation"},

	{string(models.CategoryPromotions), "Giảm giá 50% toàn bộ sản phẩm mùa hè, ưu đãi cho thành viên"},
	{string(models.CategoryPromotions), "Khuyến mãi cuối tuần, mua một tặng một tại cửa hàng"},
	{string(models.CategoryPromotions), "Mã giảm giá dành riêng cho bạn, áp dụng cho đơn hàng tiếp theo"},
	{string(models.CategoryPromotions), "Big summer sale: 50% discount on all items this weekend"},
	{string(models.CategoryPromotions), "Exclusive deal for members, use this coupon code at checkout"},
	{string(models.CategoryPromotions), "Special offer: buy one get one free, new arrivals in store"},
	{string(models.CategoryPromotions), "Our newsletter: best deals and discount offers of the week"},

	{string(models.CategoryUpdates), "Đơn hàng của bạn đã được giao hàng thành công"},
	{string(models.CategoryUpdates), "Thông báo cập nhật điều khoản dịch vụ và chính sách bảo mật"},
	{string(models.CategoryUpdates), "Hóa đơn tháng này đã sẵn sàng, thanh toán trước ngày 15"},
	{string(models.CategoryUpdates), "Your order has shipped and will be delivered tomorrow"},
	{string(models.CategoryUpdates), "Notification: your package was delivered, track your shipment"},
	{string(models.CategoryUpdates), "Account update: your monthly statement and invoice are ready"},
	{string(models.CategoryUpdates), "System update notification: scheduled maintenance this Sunday"},

	{string(models.CategoryPrimary), "Chào bạn, cuối tuần này mình đi ăn tối cùng nhau nhé"},
	{string(models.CategoryPrimary), "Mình gửi bạn tài liệu cuộc họp hôm qua, bạn xem giúp mình"},
	{string(models.CategoryPrimary), "Anh ơi, chiều nay anh có rảnh để gọi điện không"},
	{string(models.CategoryPrimary), "Hi, are we still meeting for lunch on Thursday?"},
	{string(models.CategoryPrimary), "Here are the notes from our call yesterday, let me know what you think"},
	{string(models.CategoryPrimary), "Hey, how was your trip? Let's catch up next week"},
	{string(models.CategoryPrimary), "Can you send me the slides when you get a chance? Thanks"},
}

var sentimentSamples = []sample{
	{string(models.SentimentPositive), "Cảm ơn bạn rất nhiều, dịch vụ tuyệt vời, tôi rất hài lòng"},
	{string(models.SentimentPositive), "Sản phẩm xuất sắc, tôi yêu thích nó, chất lượng tốt"},
	{string(models.SentimentPositive), "Cảm ơn đội ngũ hỗ trợ nhiệt tình, thật tuyệt vời"},
	{string(models.SentimentPositive), "Thank you so much, the service was excellent and I love it"},
	{string(models.SentimentPositive), "Great work, amazing results, I really appreciate your help"},
	{string(models.SentimentPositive), "Wonderful news, thanks, we are very happy with the outcome"},

	{string(models.SentimentNegative), "Tôi rất thất vọng, dịch vụ tệ, tôi muốn khiếu nại"},
	{string(models.SentimentNegative), "Sản phẩm kém chất lượng, tồi tệ, tôi muốn hủy đơn hàng"},
	{string(models.SentimentNegative), "Phàn nàn về thái độ nhân viên, yêu cầu bị từ chối"},
	{string(models.SentimentNegative), "I am very disappointed, this is the worst service, terrible"},
	{string(models.SentimentNegative), "Complaint: I am angry and frustrated, please cancel my order"},
	{string(models.SentimentNegative), "Your team refused my refund, this is unacceptable and terrible"},

	{string(models.SentimentNeutral), "Cuộc họp được dời sang 3 giờ chiều thứ hai"},
	{string(models.SentimentNeutral), "Gửi bạn tài liệu đính kèm theo yêu cầu"},
	{string(models.SentimentNeutral), "Thông báo lịch làm việc tuần tới của phòng"},
	{string(models.SentimentNeutral), "The meeting has been moved to Monday at 3 pm"},
	{string(models.SentimentNeutral), "Please find the attached document as requested"},
	{string(models.SentimentNeutral), "Here is the schedule for next week, see the details below"},
}
